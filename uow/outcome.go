package uow

// Outcome is the result of a close sequence. Primary is the first failure
// captured by the unit; Secondary holds failures masked behind it.
type Outcome struct {
	Primary   error
	Secondary []error
}

// Failed reports whether the unit captured any failure.
func (o Outcome) Failed() bool { return o.Primary != nil }
