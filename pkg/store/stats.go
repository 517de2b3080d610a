package store

import (
	"context"
	"fmt"

	"github.com/sunil55999/Zorox/pkg/errs"
)

// StatField names one of model.PairStats' counters (spec §4.6: "increment
// the corresponding reason counter").
type StatField string

const (
	StatSent          StatField = "sent"
	StatEdited        StatField = "edited"
	StatDeleted       StatField = "deleted"
	StatWordsBlocked  StatField = "words_blocked"
	StatImagesBlocked StatField = "images_blocked"
	StatDroppedMedia  StatField = "dropped_media"
	StatDroppedLength StatField = "dropped_length"
	StatSendErrors    StatField = "send_errors"
)

// BumpStat increments one counter on a pair's stats blob by a
// read-modify-write over UpsertPair. Stats are low-frequency-contention
// (one pipeline goroutine per event) so this is not on SaveMapping's hot
// path and the extra round trip is acceptable.
func (s *Store) BumpStat(ctx context.Context, pairID int64, field StatField) error {
	p, err := s.GetPairByID(ctx, pairID)
	if err != nil {
		return err
	}

	switch field {
	case StatSent:
		p.Stats.Sent++
	case StatEdited:
		p.Stats.Edited++
	case StatDeleted:
		p.Stats.Deleted++
	case StatWordsBlocked:
		p.Stats.WordsBlocked++
	case StatImagesBlocked:
		p.Stats.ImagesBlocked++
	case StatDroppedMedia:
		p.Stats.DroppedMedia++
	case StatDroppedLength:
		p.Stats.DroppedLength++
	case StatSendErrors:
		p.Stats.SendErrors++
	default:
		return errs.Store(fmt.Errorf("bump stat: unknown field %q", field))
	}

	return s.UpsertPair(ctx, p)
}
