//go:build windows

package loop

import "errors"

// selectPoller is an unsupported stub: squibd targets Unix hosts, and this
// build only exists so the module stays buildable on Windows for tooling
// purposes (go vet, IDE indexing).
type selectPoller struct{}

func newSelectPoller() Poller {
	return &selectPoller{}
}

var errUnsupported = errors.New("loop: no poller implementation for windows")

func (p *selectPoller) Add(fd int, events IOEvent, cb IOCallback) error { return errUnsupported }
func (p *selectPoller) Modify(fd int, events IOEvent) error             { return errUnsupported }
func (p *selectPoller) Remove(fd int) error                             { return nil }
func (p *selectPoller) Wait(timeoutMs int) (int, error)                 { return 0, errUnsupported }
func (p *selectPoller) Close() error                                    { return nil }
