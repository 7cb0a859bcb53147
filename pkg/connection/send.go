package connection

import (
	"context"
	"fmt"
)

// Send issues a unary call on c and decodes the result into res.
// res may be nil when the caller only cares about success.
func Send[Result any](c Connection, ctx context.Context, res *RPCResponse[Result], method RPCFunction, params ...any) error {
	rawRes, err := c.Send(ctx, string(method), params...)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	if rawRes.ID != nil {
		res.ID = rawRes.ID
	}
	res.Error = rawRes.Error

	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	if err := c.GetUnmarshaler().Unmarshal(*rawRes.Result, &r); err != nil {
		return fmt.Errorf("Send: error unmarshaling result of %s: %w", method, err)
	}

	res.Result = &r

	return nil
}

// Call is Send for callers that want the decoded result directly.
func Call[Result any](c Connection, ctx context.Context, method RPCFunction, params ...any) (Result, error) {
	var res RPCResponse[Result]
	var zero Result

	if err := Send(c, ctx, &res, method, params...); err != nil {
		return zero, err
	}
	if res.Error != nil {
		return zero, res.Error
	}
	if res.Result == nil {
		return zero, nil
	}
	return *res.Result, nil
}
