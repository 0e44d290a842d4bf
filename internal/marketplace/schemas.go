package marketplace

import "fmt"

const moneySchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": {"type": "integer"},
    "currency": {"type": "string"}
  }
}`

var schemas = map[string]string{
	OpProducts: `{
  "type": "object",
  "required": ["S_products"],
  "properties": {
    "S_products": {
      "type": "object",
      "required": ["edges"],
      "properties": {
        "edges": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["node"],
            "properties": {
              "node": {
                "type": "object",
                "required": ["id"],
                "properties": {
                  "id": {"type": "string", "format": "uuid"},
                  "name": {"type": ["string", "null"]},
                  "slug": {"type": ["string", "null"]}
                }
              }
            }
          }
        }
      }
    }
  }
}`,
	OpCompetition: fmt.Sprintf(`{
  "type": "object",
  "required": ["S_competition"],
  "properties": {
    "S_competition": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["competition"],
        "properties": {
          "competition": {
            "type": "object",
            "required": ["edges"],
            "properties": {
              "edges": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["node"],
                  "properties": {
                    "node": {
                      "type": "object",
                      "required": ["merchantName", "price"],
                      "properties": {
                        "merchantName": {"type": "string"},
                        "isInStock": {"type": ["boolean", "null"]},
                        "price": %s
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`, moneySchema),
	OpCalculatePrice: fmt.Sprintf(`{
  "type": "object",
  "required": ["S_calculatePrice"],
  "properties": {
    "S_calculatePrice": {
      "type": "object",
      "required": ["priceWithCommission", "priceWithoutCommission"],
      "properties": {
        "priceWithCommission": %s,
        "priceWithoutCommission": %s
      }
    }
  }
}`, moneySchema, moneySchema),
	OpStock: fmt.Sprintf(`{
  "type": "object",
  "required": ["S_stock"],
  "properties": {
    "S_stock": {
      "type": ["object", "null"],
      "properties": {
        "edges": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["node"],
            "properties": {
              "node": {
                "type": "object",
                "required": ["id", "price", "priceUpdateQuota"],
                "properties": {
                  "id": {"type": "string"},
                  "price": %s,
                  "priceUpdateQuota": {
                    "type": "object",
                    "required": ["quota"],
                    "properties": {
                      "quota": {"type": "integer"},
                      "nextFreeIn": {"type": ["integer", "null"]},
                      "totalFree": {"type": ["integer", "null"]}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`, moneySchema),
	OpUpdateAuction: `{
  "type": "object",
  "required": ["S_updateAuction"],
  "properties": {
    "S_updateAuction": {
      "type": "object",
      "required": ["success"],
      "properties": {
        "success": {"type": "boolean"}
      }
    }
  }
}`,
}

// SchemaRegistrar accepts JSON schemas for operation payloads.
type SchemaRegistrar interface {
	RegisterSchema(op, schema string) error
}

// RegisterSchemas installs the payload schema of every operation.
func RegisterSchemas(r SchemaRegistrar) error {
	for op, s := range schemas {
		if err := r.RegisterSchema(op, s); err != nil {
			return err
		}
	}
	return nil
}
