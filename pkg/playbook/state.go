// pkg/playbook/state.go
package playbook

import (
	"time"

	"TriggerRadar/pkg/model"
)

// entryState 条目的有效窗口状态，引擎独占持有
type entryState struct {
	unit         model.ValidityUnit
	triggeredBar int64     // bars窗口：成立时的tick计数
	validUntil   time.Time // minutes窗口：墙上时钟截止
	duration     int64
}

func newEntryState(entry model.PlaybookEntry, bar int64, now time.Time) *entryState {
	st := &entryState{
		unit:     entry.ValidityUnit,
		duration: int64(entry.ValidityDuration),
	}
	if entry.ValidityUnit == model.ValidityMinutes {
		st.validUntil = now.Add(time.Duration(entry.ValidityDuration) * time.Minute)
	} else {
		st.triggeredBar = bar
	}
	return st
}

// valid 窗口是否仍然有效
// bars窗口在成立后的duration个tick内有效：成立于bar B，则B+1..B+duration有效
func (s *entryState) valid(bar int64, now time.Time) bool {
	if s.unit == model.ValidityMinutes {
		return now.Before(s.validUntil)
	}
	return bar-s.triggeredBar <= s.duration
}
