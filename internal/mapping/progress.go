// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mapping

import (
	"math"
	"time"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// publish sends a progress event without blocking, dropping the oldest
// queued event when the buffer is full.
func (s *Session) publish() {
	if s.progressClosed {
		return
	}
	ev := s.progressEvent()
	for {
		select {
		case s.progress <- ev:
			return
		default:
		}
		select {
		case <-s.progress:
		default:
		}
	}
}

// progressEvent estimates progress from the bytes consumed so far against
// the document size, when known.
func (s *Session) progressEvent() types.ProgressEvent {
	ev := types.ProgressEvent{
		SessionID:      s.id,
		Stage:          s.stage,
		ItemsProcessed: s.batchesN,
		Elapsed:        time.Since(s.started),
	}
	if s.stage.Terminal() {
		ev.Percent = 100
		ev.TotalItemsEstimate = s.batchesN
		return ev
	}

	consumed := s.src.Consumed()
	if s.doc.Size <= 0 || consumed <= 0 {
		return ev
	}
	frac := math.Min(1, float64(consumed)/float64(s.doc.Size))
	ev.Percent = frac * 100
	ev.TotalItemsEstimate = int(math.Ceil(float64(s.batchesN) / frac))
	ev.EstimatedRemaining = time.Duration(float64(ev.Elapsed) * (1 - frac) / frac)
	return ev
}
