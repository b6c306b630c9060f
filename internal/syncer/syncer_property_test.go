package syncer

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Waito3007/SHNGear-sub002/internal/message"
)

// genDelivery produces arbitrary confirmed deliveries drawn from a small
// id pool so redeliveries are common.
func genDelivery(base time.Time) gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 9),
		gen.IntRange(0, 5),
		gen.IntRange(0, 60_000),
		gen.Bool(),
	).Map(func(values []interface{}) message.Message {
		idx := values[0].(int)
		contentIdx := values[1].(int)
		offsetMs := values[2].(int)
		fromAdmin := values[3].(bool)

		sender := message.SenderUser
		if fromAdmin {
			sender = message.SenderAdmin
		}
		return message.Message{
			ID:      fmt.Sprintf("m-%d", idx),
			Sender:  sender,
			Type:    message.TypeText,
			Content: fmt.Sprintf("content-%d", contentIdx),
			SentAt:  base.Add(time.Duration(offsetMs) * time.Millisecond),
		}
	})
}

func TestSynchronizerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	properties.Property("no permanent id ever appears twice", prop.ForAll(
		func(deliveries []message.Message) bool {
			s := newTestSynchronizer()
			for _, msg := range deliveries {
				s.Apply(msg)
			}

			seen := make(map[string]bool)
			for _, msg := range s.Snapshot() {
				if seen[msg.ID] {
					return false
				}
				seen[msg.ID] = true
			}
			return true
		},
		gen.SliceOf(genDelivery(base)),
	))

	properties.Property("snapshot is always sorted by sent-at", prop.ForAll(
		func(deliveries []message.Message) bool {
			s := newTestSynchronizer()
			for _, msg := range deliveries {
				s.Apply(msg)
			}

			snapshot := s.Snapshot()
			for i := 1; i < len(snapshot); i++ {
				if snapshot[i].SentAt.Before(snapshot[i-1].SentAt) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDelivery(base)),
	))

	properties.Property("confirming an optimistic entry never duplicates it", prop.ForAll(
		func(content string, offsetMs int) bool {
			s := newTestSynchronizer()
			at := base.Add(time.Duration(offsetMs) * time.Millisecond)

			s.AppendOptimistic(message.Message{
				TempID:  "tmp-1",
				Sender:  message.SenderUser,
				Type:    message.TypeText,
				Content: content,
				SentAt:  at,
			})
			s.Apply(message.Message{
				ID:      "m-1",
				TempID:  "tmp-1",
				Sender:  message.SenderUser,
				Type:    message.TypeText,
				Content: content,
				SentAt:  at.Add(200 * time.Millisecond),
			})

			snapshot := s.Snapshot()
			return len(snapshot) == 1 && snapshot[0].ID == "m-1" && !snapshot[0].Temporary
		},
		gen.AlphaString(),
		gen.IntRange(0, 60_000),
	))

	properties.Property("applying the same delivery twice is idempotent", prop.ForAll(
		func(deliveries []message.Message) bool {
			once := newTestSynchronizer()
			twice := newTestSynchronizer()
			for _, msg := range deliveries {
				once.Apply(msg)
				twice.Apply(msg)
				twice.Apply(msg)
			}
			return once.Len() == twice.Len()
		},
		gen.SliceOf(genDelivery(base)),
	))

	properties.TestingRun(t)
}
