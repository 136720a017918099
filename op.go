package morph

// WriteMode distinguishes create from update semantics in payload
// validation and mutation planning.
type WriteMode uint8

// Write modes.
const (
	ModeCreate WriteMode = iota
	ModeUpdate
)

// String returns the mode name.
func (m WriteMode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "create"
}
