package resolver

import "context"

// StaticOracle is a test double that returns a preconfigured result for
// every Resolve call, regardless of room or quality. It exists so that
// callers (including this repository's own tests) can exercise the
// Dispatcher and the Recording/Proxy subsystems without a real platform
// client.
type StaticOracle struct {
	URL  string
	Live bool
	Err  error
}

// Resolve implements Oracle.
func (o StaticOracle) Resolve(_ context.Context, _, _, _ string) (string, bool, error) {
	if o.Err != nil {
		return "", false, o.Err
	}
	return o.URL, o.Live, nil
}

// SequenceOracle returns each configured StaticOracle result in order on
// successive Resolve calls, then repeats the final entry. It is used to
// script multi-attempt scenarios such as transient-failure-then-success or
// repeated offline responses.
type SequenceOracle struct {
	Results []StaticOracle

	calls int
}

// Resolve implements Oracle.
func (o *SequenceOracle) Resolve(ctx context.Context, roomID, quality, cookie string) (string, bool, error) {
	if len(o.Results) == 0 {
		return "", false, nil
	}
	idx := o.calls
	if idx >= len(o.Results) {
		idx = len(o.Results) - 1
	}
	o.calls++
	return o.Results[idx].Resolve(ctx, roomID, quality, cookie)
}
