// Package core contains the billing domain types, collaborator contracts,
// error taxonomy, configuration and observability shared by the processor,
// dispatcher and job runtime. Storage, queue and transport adapters depend on
// this package; core must not depend on them.
package core
