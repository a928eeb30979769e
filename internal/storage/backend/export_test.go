package backend

// SetNowForTest overrides the multiplexer's clock for retention tests.
func (x *Multiplexer) SetNowForTest(now func() int64) {
	x.now = now
}

// SetProposedDataAgeForTest overrides the retention age on the
// multiplexer's stored metadata for retention tests.
func (x *Multiplexer) SetProposedDataAgeForTest(age int64) {
	x.meta.ProposedDataAge = age
}
