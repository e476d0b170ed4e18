package reporting

import (
	"context"
	"errors"
	"sort"

	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/presence"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates over immutable sources: finished call sessions and
// the current presence rows. No state of its own.
type Service struct {
	records  callrecord.Store
	presence presence.Store
}

func NewService(records callrecord.Store, presenceStore presence.Store) *Service {
	return &Service{records: records, presence: presenceStore}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.records.List(ctx, callrecord.ListFilter{
		From:    req.Range.From,
		To:      req.Range.To,
		AgentID: req.AgentID,
	})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AgentID: req.AgentID}
	byAgent := make(map[string]*AgentActivity)
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		switch c.Status {
		case callrecord.StatusCompleted:
			out.CompletedCalls++
		case callrecord.StatusFailed:
			out.FailedCalls++
		case callrecord.StatusCanceled:
			out.CanceledCalls++
		case callrecord.StatusInProgress:
			out.InProgressCalls++
		case callrecord.StatusQueued, callrecord.StatusRinging:
			out.WaitingCalls++
		}

		if c.AgentID != "" && c.AnsweredAt != nil {
			a, ok := byAgent[c.AgentID]
			if !ok {
				a = &AgentActivity{AgentID: c.AgentID}
				byAgent[c.AgentID] = a
			}
			a.HandledCalls++
			a.TotalDurationSeconds += c.DurationSeconds
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	for _, a := range byAgent {
		out.PerAgent = append(out.PerAgent, *a)
	}
	sort.Slice(out.PerAgent, func(i, j int) bool { return out.PerAgent[i].AgentID < out.PerAgent[j].AgentID })
	return out, nil
}

// Presence returns the live wallboard view.
func (s *Service) Presence(ctx context.Context) (PresenceOverview, error) {
	out := PresenceOverview{}
	for _, state := range []presence.State{
		presence.StateAvailable,
		presence.StateBusy,
		presence.StateOnBreak,
		presence.StateOffline,
	} {
		rows, err := s.presence.ListByState(ctx, state)
		if err != nil {
			return PresenceOverview{}, err
		}
		switch state {
		case presence.StateAvailable:
			out.Available = len(rows)
		case presence.StateBusy:
			out.Busy = len(rows)
		case presence.StateOnBreak:
			out.OnBreak = len(rows)
		case presence.StateOffline:
			out.Offline = len(rows)
		}
		for _, p := range rows {
			out.Agents = append(out.Agents, AgentStatus{
				AgentID:    p.AgentID,
				State:      string(p.State),
				StateSince: p.StateSince,
			})
		}
	}
	sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].AgentID < out.Agents[j].AgentID })
	return out, nil
}
