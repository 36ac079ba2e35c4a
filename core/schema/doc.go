/*
Package schema defines the declarative entity schemas that drive the
mutation pipeline.

A schema describes one entity: its attributes, the names of its system
attributes (id, created-at, updated-at), the operations it forbids and
whether it is backed by storage at all.

# Schema Definition

A schema definition in YAML:

	entity: product

	attributes:
	  name:     { type: string, required: true }
	  sku:      { type: string, autoNumber: { prefix: "SKU-", width: 6 } }
	  price:    { type: number, default: 0 }
	  status:   { type: enum, values: [draft, active], default: draft }
	  listed:   { type: datetime, default: "@now" }
	  category: { type: lookup, entity: category, behavior: restrict }
	  created_at: { type: datetime }
	  updated_at: { type: datetime }

	restrictions:
	  disableDelete: true

	plugins:
	  - { message: update, stage: postOperation, attributes: [price], emit: product.repriced }

# Attribute Types

  - string, text: Text values
  - int:          Integer value (auto-number eligible)
  - number:       Floating-point value
  - bool:         Boolean value
  - date:         Calendar date ("@now" default allowed)
  - datetime:     Timestamp ("@now" default allowed)
  - json:         Arbitrary JSON object/array
  - lookup:       Reference to another entity (requires entity)
  - enum:         One of values
  - secret:       Hashed before it is stored
  - uuid:         UUID string

# Defaults

A declared default is one of three variants: a static value, a value
computed by a Go function at resolution time (attached in code with
Computed), or the "@now" sentinel on date-typed attributes.

# Parsing

	s, err := schema.ParseFile("schemas/product.yaml")
	all, err := schema.ParseDir("schemas/")

Parsed schemas are normalized and validated. Invalid schemas return an error.
*/
package schema
