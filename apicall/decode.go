package apicall

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeData decodes resp.Data into out using the json field tags of out.
// It is meant for normalized map payloads:
//
//	var user struct {
//	    ID    string `json:"id"`
//	    Email string `json:"firstEmail"`
//	}
//	if err := apicall.DecodeData(resp, &user); err != nil {
//	    return err
//	}
//
// Numbers and strings are converted where the target field type needs it,
// since decoded JSON numbers arrive as float64.
func DecodeData(resp *Response, out any) error {
	if resp == nil {
		return errors.New("decode response data: nil response")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}

	if err := dec.Decode(resp.Data); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
