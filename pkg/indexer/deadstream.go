package indexer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/corelane/coreindexer/pkg/coreio"
)

var deadStreamSeq atomic.Uint64

// deadStream satisfies multistream.Stream for a core whose Ready failed
// during AddCore. Per the readiness-failure edge case, such a core is
// kept in the pipeline so addCore doesn't hard-fail the whole indexer,
// but is never registered for setIndexed routing and never produces
// entries: its discovery id is synthetic and matches no real core.
type deadStream struct {
	id  string
	out chan coreio.Entry
}

func newDeadStream() *deadStream {
	n := deadStreamSeq.Add(1)
	return &deadStream{
		id:  fmt.Sprintf("dead-core-%d", n),
		out: make(chan coreio.Entry),
	}
}

func (d *deadStream) DiscoveryID() string                      { return d.id }
func (d *deadStream) Out() <-chan coreio.Entry                 { return d.out }
func (d *deadStream) Remaining() uint64                        { return 0 }
func (d *deadStream) Drained() bool                            { return true }
func (d *deadStream) SetIndexed(i uint64)                      {}
func (d *deadStream) OnIndexing(func()) func()                 { return func() {} }
func (d *deadStream) OnDrained(func()) func()                  { return func() {} }
func (d *deadStream) OnClose(func()) func()                    { return func() {} }
func (d *deadStream) Destroy(ctx context.Context) error        { return nil }
func (d *deadStream) UnlinkStorage(ctx context.Context) error  { return nil }
