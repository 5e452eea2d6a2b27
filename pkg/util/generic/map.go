package generic

// Map applies f to every element of the slice, returning the results
func Map[F any, T any](inputs []F, f func(F) T) []T {
	outputs := make([]T, 0, len(inputs))
	for _, input := range inputs {
		outputs = append(outputs, f(input))
	}
	return outputs
}
