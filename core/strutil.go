package core

// utoa formats an unsigned integer without pulling in fmt or strconv,
// which cost flash on small parts.
func utoa(n uint32) string {
	var buf [10]byte // 4294967295
	pos := len(buf)
	for {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return string(buf[pos:])
}

// FormatUint is utoa for targets and examples, which share the
// no-strconv constraint
func FormatUint(n uint32) string {
	return utoa(n)
}

// FormatInt formats a signed integer
func FormatInt(n int) string {
	return itoa(n)
}

// itoa formats a signed integer
func itoa(n int) string {
	if n < 0 {
		return "-" + utoa(uint32(-int64(n)))
	}
	return utoa(uint32(n))
}

// valueToString renders a dictionary constant. Unknown types render
// empty; every constant the firmware registers is one of these.
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case uint32:
		return utoa(val)
	case Hertz:
		return utoa(uint32(val))
	case bool:
		if val {
			return "1"
		}
		return "0"
	}
	return ""
}
