package objsys

// Compare reports whether a and b are equal according to their class's
// Compare hook. Objects of different classes are never equal and the same
// object always equals itself; neither case calls the hook.
func Compare(a, b *Object) (bool, error) {
	const op = "Compare"

	if a == nil {
		return false, errorf(ErrorCodeArg, op, "", "argument \"oa\" is nil")
	}
	if b == nil {
		return false, errorf(ErrorCodeArg, op, a.Type(), "argument \"ob\" is nil")
	}
	if a == b {
		return true, nil
	}
	if a.cls.Name != b.cls.Name {
		return false, nil
	}

	compare := a.cls.Compare
	if compare == nil {
		return false, errorf(ErrorCodeMethodUnavailable, op, a.Type(),
			"class method \"compare\" not implemented")
	}
	eq, err := compare(a, b)
	if err != nil {
		return false, NewError(ErrorCodeMethodFailed, op, a.Type(), "call to class method \"compare\" failed", err)
	}
	return eq, nil
}

// Print returns the textual form of obj from its class's Print hook. A
// class without one prints as "[Type]" together with METHOD_UNAVAILABLE.
func Print(obj *Object) (string, error) {
	const op = "Print"

	if obj == nil {
		return "", errorf(ErrorCodeArg, op, "", "argument \"self\" is nil")
	}

	printFn := obj.cls.Print
	if printFn == nil {
		return "[" + obj.Type() + "]", errorf(ErrorCodeMethodUnavailable, op, obj.Type(),
			"class method \"print\" not implemented")
	}
	s, err := printFn(obj)
	if err != nil {
		return "", NewError(ErrorCodeMethodFailed, op, obj.Type(), "call to class method \"print\" failed", err)
	}
	return s, nil
}

// Copy returns a new object equal to obj from its class's Copy hook. The
// copy holds one reference of its own.
func Copy(obj *Object) (*Object, error) {
	const op = "Copy"

	if obj == nil {
		return nil, errorf(ErrorCodeArg, op, "", "argument \"self\" is nil")
	}

	cp := obj.cls.Copy
	if cp == nil {
		return nil, errorf(ErrorCodeMethodUnavailable, op, obj.Type(),
			"class method \"copy\" not implemented")
	}
	dup, err := cp(obj)
	if err != nil {
		return nil, NewError(ErrorCodeMethodFailed, op, obj.Type(), "call to class method \"copy\" failed", err)
	}
	if dup == nil {
		return nil, errorf(ErrorCodeMethodFailed, op, obj.Type(), "class method \"copy\" returned nil")
	}
	return dup, nil
}
