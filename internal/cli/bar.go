package cli

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar shows run progress. The bar is created on the first update,
// once the number of records is known. Updates must not be concurrent.
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(w io.Writer, disabled bool) *progressBar {
	if disabled {
		return &progressBar{}
	}
	return &progressBar{p: mpb.New(mpb.WithOutput(w), mpb.WithWidth(50))}
}

func (b *progressBar) update(done, total int) {
	if b.p == nil {
		return
	}
	if b.bar == nil {
		b.bar = b.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("records ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.Percentage(decor.WCSyncSpace), "done"),
			),
		)
	}
	b.bar.SetCurrent(int64(done))
}

// wait flushes the bar. A bar left short by a cancelled run is completed at
// its current count so Wait returns.
func (b *progressBar) wait() {
	if b.p == nil {
		return
	}
	if b.bar != nil && !b.bar.Completed() {
		b.bar.SetTotal(-1, true)
	}
	b.p.Wait()
}
