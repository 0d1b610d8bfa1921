package report

// Multi fans a single publish out to several dispatchers, matching a
// reporter config with multiple configured sinks.
type Multi struct {
	Dispatchers []Dispatcher
}

func (m Multi) SendReport(lines []string) {
	for _, d := range m.Dispatchers {
		d.SendReport(lines)
	}
}
