// Package resource contains the document model that flows through the merge engine:
// resources, references between them and person link entries.
//
// A Resource is an arbitrary nested JSON document. Sub-documents that carry a
// "reference" key are References and are never walked structurally; everything
// else is either a nested document, a sequence or a scalar. Classify turns a raw
// value into a tagged Node so callers switch on the kind once instead of probing
// maps at every step.
package resource
