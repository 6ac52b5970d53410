package api

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/supervisor"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func statusToStruct(statuses []supervisor.ServiceStatus) (*structpb.Struct, error) {
	list := make([]any, 0, len(statuses))
	for _, st := range statuses {
		list = append(list, map[string]any{
			"name":    st.Name,
			"state":   string(st.State),
			"message": st.Message,
			"updated": formatTime(st.Updated),
			"since":   formatTime(st.Since),
			"running": st.Running,
			"pid":     st.PID,
		})
	}
	return structpb.NewStruct(map[string]any{"services": list})
}

func structToStatus(s *structpb.Struct) []supervisor.ServiceStatus {
	values := s.GetFields()["services"].GetListValue().GetValues()
	out := make([]supervisor.ServiceStatus, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		out = append(out, supervisor.ServiceStatus{
			Name:    f["name"].GetStringValue(),
			State:   lifecycle.State(f["state"].GetStringValue()),
			Message: f["message"].GetStringValue(),
			Updated: parseTime(f["updated"].GetStringValue()),
			Since:   parseTime(f["since"].GetStringValue()),
			Running: f["running"].GetBoolValue(),
			PID:     int(f["pid"].GetNumberValue()),
		})
	}
	return out
}

func eventToStruct(ev supervisor.StatusEvent) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"service": structpb.NewStringValue(ev.Service),
		"state":   structpb.NewStringValue(string(ev.State)),
		"message": structpb.NewStringValue(ev.Message),
		"time":    structpb.NewStringValue(formatTime(ev.Time)),
	}}
}

func structToEvent(s *structpb.Struct) supervisor.StatusEvent {
	f := s.GetFields()
	return supervisor.StatusEvent{
		Service: f["service"].GetStringValue(),
		State:   lifecycle.State(f["state"].GetStringValue()),
		Message: f["message"].GetStringValue(),
		Time:    parseTime(f["time"].GetStringValue()),
	}
}
