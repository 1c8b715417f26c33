package tokencount

// NullCounter always returns 0; useful for tests where token counts are
// irrelevant.
type NullCounter struct{}

func (NullCounter) CountText(string) int                { return 0 }
func (NullCounter) CountMessages([]Message) int          { return 0 }
func (NullCounter) Identity() string                     { return "null" }
