// Package errors provides structured error types for the translator.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path (function, section, offset), the expected
// and actual shapes for mismatches, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTranslate, errors.KindTypeMismatch).
//		Path("func[4]", "select").
//		Want("i32").
//		Got("f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseDecode, "shared memory")
//	err := errors.OutOfBounds(errors.PhaseTranslate, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when their Phase and Kind agree.
package errors
