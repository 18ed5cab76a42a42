package x402

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchema is the shape every decoded X-Payment envelope must satisfy
// before it is handed to the facilitator. The payload body stays opaque
// beyond the authorization fields the gateway itself reads.
const payloadSchema = `{
  "type": "object",
  "required": ["x402Version", "scheme", "network", "payload"],
  "properties": {
    "x402Version": {"const": 1},
    "scheme": {"type": "string", "minLength": 1},
    "network": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "required": ["signature", "authorization"],
      "properties": {
        "signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
        "authorization": {
          "type": "object",
          "required": ["from", "to", "value"],
          "properties": {
            "from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
            "to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
            "value": {"type": "string", "pattern": "^[0-9]+$"}
          }
        }
      }
    }
  }
}`

var payloadSchemaLoader = gojsonschema.NewStringLoader(payloadSchema)

// ValidatePayloadJSON validates raw envelope JSON against the payload schema.
// Returns a single error listing every violation.
func ValidatePayloadJSON(raw []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(payloadSchemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var descs []string
	for _, desc := range result.Errors() {
		descs = append(descs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid payment payload: %s", strings.Join(descs, "; "))
}

// Authorization returns the payer address and transfer value (in asset base
// units) from an exact-scheme payment payload. The fields live at
// payload.authorization.from and payload.authorization.value.
func Authorization(p PaymentPayload) (payer string, value uint64, err error) {
	auth, ok := p.Payload["authorization"].(map[string]interface{})
	if !ok {
		return "", 0, fmt.Errorf("payment payload has no authorization")
	}

	payer, ok = auth["from"].(string)
	if !ok || payer == "" {
		return "", 0, fmt.Errorf("authorization has no payer address")
	}

	valueStr, ok := auth["value"].(string)
	if !ok {
		return "", 0, fmt.Errorf("authorization has no value")
	}
	value, err = strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid authorization value %q: %w", valueStr, err)
	}

	return payer, value, nil
}
