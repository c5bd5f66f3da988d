package assert

import "fmt"

// Assert panics when cond is false. It marks protocol misuse and broken
// invariants; it is never part of ordinary control flow.
func Assert(cond bool, format ...any) {
	if cond {
		return
	}

	msg := "assertion failed"
	if len(format) > 0 {
		f, ok := format[0].(string)
		if !ok {
			panic(fmt.Sprintf("%s: %+v", msg, format))
		}
		msg = fmt.Sprintf(f, format[1:]...)
	}
	panic(msg)
}

func NoError(err error, msgAndArgs ...any) {
	if err == nil {
		return
	}
	if len(msgAndArgs) > 0 {
		Assert(false, "%v: %+v", msgAndArgs, err)
	}
	panic(err)
}
