// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// It provides structured error markers plus the Wrap helper that translate
// failures into consistent pipeline outcomes (terminal vs survivable), so
// operational behaviour stays uniform across the reconstruction client, the
// vision oracle, and the job worker.
package services
