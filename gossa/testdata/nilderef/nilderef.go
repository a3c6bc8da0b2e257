package nilderef

func direct() int {
	var t *T
	return t.A
}

func guarded(t *T) int {
	if t == nil {
		return 0
	}
	return t.A
}

func caller() int {
	var t *T
	return callee(t)
}

func callee(t *T) int {
	return t.A
}

func divide(x int) int {
	y := 0
	return x / y
}

func count(n int) int {
	total := 0
	for i := 0; i < n; i++ {
		total += i
	}
	return total
}

func fail(t *T) {
	if t == nil {
		panic("nil T")
	}
}

func (t *T) Get() int {
	return t.A
}

type T struct {
	A int
}
