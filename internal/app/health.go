package app

// health is the snapshot served on the debug /healthz endpoint.
func (a *App) health() map[string]any {
	st := a.Push.Status()
	entries := a.sched.Entries()
	jobs := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Next.IsZero() {
			jobs[e.Name] = e.Next.UTC().Format("2006-01-02T15:04:05Z")
		} else {
			jobs[e.Name] = ""
		}
	}
	out := map[string]any{
		"push": map[string]any{
			"state":   st.State,
			"backend": st.Backend,
			"queue":   st.Queue,
		},
		"history_unread": a.History.UnreadCount(),
		"ledger_size":    a.Ledger.Len(),
		"schedule":       string(a.Schedule.Current().Status),
		"jobs":           jobs,
	}
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		out["goroutines"] = sup.Counters()
	}
	return out
}
