package models

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

/**
convenience function to perform a mapstructure decode using the customised decode hook below.
json tags are used as field names and input is weakly typed, so numeric ids from the backend land in string fields.
*/
func CustomisedMapStructureDecode(incoming interface{}, outgoing interface{}) error {
	decoder, setupErr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructureDecodeHook,
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           outgoing,
	})
	if setupErr != nil {
		return setupErr
	}
	return decoder.Decode(incoming)
}

/**
this custom decode hook performs one extra conversion:
- if the input is a string and the output is int64, try to parse it as an RFC 3339 timestamp and
  return epoch seconds. Anything else is left for the weak decoding to deal with.
*/
func mapstructureDecodeHook(inType reflect.Type, outType reflect.Type, value interface{}) (interface{}, error) {
	if inType == reflect.TypeOf("") && outType == reflect.TypeOf(int64(0)) {
		timeval, timeerr := time.Parse(time.RFC3339, value.(string))
		if timeerr != nil {
			return value, nil
		}
		return timeval.Unix(), nil
	}
	return value, nil
}
