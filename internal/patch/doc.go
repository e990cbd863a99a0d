// Package patch implements the post-build patch language used to fix up FSP
// firmware images once their layout is known.
//
// A plan is an ordered list of lines of the form
//
//	address-expression, value-expression[, width], @comment
//
// Expressions are built from literals, base markers (_BASE_FSP-T_), module
// symbols (FspSecCoreT:_TempRamInitApi), FFS offsets (GUID:0x1C), and the
// bracket forms [x] (read the 32-bit value at x), <x> (address to image
// offset) and {x} (image offset to address). The operators + - & | are
// evaluated strictly left to right.
//
// Plans are applied by an Engine. Application is all-or-nothing: the first
// failure rolls the image back and marks it aborted so it cannot be saved.
//
//	plan, err := patch.ParsePlan("FSP-T", lines)
//	img, err := patch.LoadImage("QEMUFSP.fd", 0)
//	n, err := patch.NewEngine(bases, logger).Apply(plan, table, img)
//	err = img.Save("")
package patch
