package command

// ResultAs decodes the result of a processed command into T. The second
// return value is false when the command has no result yet.
func ResultAs[T any](c *Command) (T, bool, error) {
	var zero T
	result := c.Result()
	if result == nil {
		return zero, false, nil
	}
	out, err := DecodeParams[T](result)
	if err != nil {
		return zero, true, err
	}
	return out, true, nil
}

// ParamsAs decodes the params of a command into T.
func ParamsAs[T any](c *Command) (T, error) {
	return DecodeParams[T](c.Params())
}
