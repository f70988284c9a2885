/*
Package client provides a Go client for the engine's HTTP automation API.

The client is what the stratum CLI uses to talk to a server started with
"stratum serve". It speaks the JSON types of pkg/api directly.

# Usage

Submitting one action and waiting for its outcome:

	c := client.NewClient("127.0.0.1:9090")

	resp, err := c.Submit(ctx, "Threshold target='layer_1' lower='0.5' upper='1'", true)
	if err != nil {
		return err
	}
	fmt.Println(resp.Status, resp.Layers)

Submitting several actions that must run back to back:

	resps, err := c.SubmitBatch(ctx, []string{
		"CreateLayer name='base' dims='64,64,32' pattern='ramp'",
		"Threshold target='layer_1'",
	}, true)

Watching the engine:

	st, err := c.Status(ctx)
	fmt.Println(st.Busy, st.Pending)

	err = c.Events(ctx, func(ev api.EventView) error {
		fmt.Println(ev.Type, ev.Metadata["layer_id"])
		return nil
	})

Events blocks until ctx ends, the server closes the stream or the callback
returns an error. Cancelling ctx is the normal way to stop it and is not
reported as an error.

# Errors

Every non-2xx answer is returned as an *APIError. A waited action that
failed validation still decodes its ActionResponse, available through
APIError.Action, so callers can tell invalid from unavailable:

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Action != nil {
		fmt.Println(apiErr.Action.Status)
	}

# Timeouts

Calls that do not wait for an action are bounded by DefaultTimeout. Waiting
submissions and the event stream are bounded only by the caller's context.
*/
package client
