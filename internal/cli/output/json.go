package output

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var outputJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONFormatter formats data as JSON.
type JSONFormatter struct{}

// Format formats data as indented JSON.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := outputJSON.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// toGeneric converts data to maps, slices and scalars using its JSON
// field names.
func toGeneric(data any) (any, error) {
	b, err := outputJSON.Marshal(data)
	if err != nil {
		return nil, err
	}
	var v any
	if err := outputJSON.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
