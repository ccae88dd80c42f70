package theater

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"theaterd/internal/controller"
)

// progress turns controller callbacks into notices and log lines.
type progress struct {
	notify Notifier
	log    zerolog.Logger
}

func (p *progress) AttemptStarted(run controller.Run, n, total int) {
	p.notify.Notify(newNotice(LevelInfo, 0, fmt.Sprintf("generating... (%d/%d)", n, total)))
}

func (p *progress) AttemptFailed(run controller.Run, n, total int, err error, delay time.Duration) {
	ev := p.log.Warn().Str("run_id", run.ID).Int("attempt", n).Int("of", total)
	if controller.IsEmptyResult(err) {
		ev.Msg("empty result")
	} else {
		ev.Err(err).Msg("generation error")
	}
	if n < total {
		p.notify.Notify(newNotice(LevelWarning, 0,
			fmt.Sprintf("generation failed, retrying in %gs... (%d/%d)", delay.Seconds(), n, total)))
	}
}

func (p *progress) Finished(run controller.Run, _ string, err error) {
	ev := p.log.Info().Str("run_id", run.ID).Dur("dur", time.Since(run.Started))
	if err != nil {
		ev.Err(err).Msg("generation run failed")
		return
	}
	ev.Msg("generation run succeeded")
}
