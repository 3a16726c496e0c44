// Package runtime executes translated il modules.
//
// It is the loader and invoker for the output of package translate: a
// Runtime binds a module's host references against a host.Registry,
// runs the module initializer once and exposes the exported functions.
//
//	reg := host.NewRegistry()
//	_ = wasi.Register(reg)
//
//	rt := runtime.New(reg)
//	inst, err := rt.Instantiate(ctx, mod, host.NewContext())
//	if err != nil {
//	    return err
//	}
//	defer inst.Close()
//
//	sum, err := inst.Call(ctx, "add", 2, 3)
//
// # Values
//
// Arguments and results use the il value encoding: i32 values are
// zero-extended to 64 bits and floats travel as their IEEE-754 bit
// patterns. Encode and Format convert between that encoding and text.
//
// # Faults
//
// Guest faults surface as *Trap. proc_exit surfaces as *host.ExitError.
// The context passed to Call is checked on every call and backward branch,
// so a canceled context stops a looping guest.
//
// An Instance is not safe for concurrent use.
package runtime
