package log

// TB is the subset of testing.T the test logger needs.
type TB interface {
	Logf(string, ...interface{})
	Fatalf(string, ...interface{})
	Helper()
}

// Test returns a logger printing through the test log, so records interleave with test
// output. Error records only log, expected failures stay quiet; Crit fails the test.
func Test(t TB, tags ...interface{}) Logger { return &tlog{t, tags} }

type tlog struct {
	t    TB
	tags []interface{}
}

func (l *tlog) Debug(m string, s ...interface{}) {
	l.t.Helper()
	l.t.Logf("%s", tfmt("DEB ", m, s, l.tags))
}

func (l *tlog) Error(m string, s ...interface{}) {
	l.t.Helper()
	l.t.Logf("%s", tfmt("ERR ", m, s, l.tags))
}

func (l *tlog) Crit(m string, s ...interface{}) {
	l.t.Helper()
	l.t.Fatalf("%s", tfmt("CRI ", m, s, l.tags))
}

func (l *tlog) With(tags ...interface{}) Logger {
	t := make([]interface{}, 0, len(tags)+len(l.tags))
	t = append(t, tags...)
	t = append(t, l.tags...)
	return &tlog{l.t, t}
}
