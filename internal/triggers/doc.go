// Package triggers is the entry point of the trigger engine.
//
// A trigger maps an inbound event pattern to a workflow to start. The
// supported trigger types are:
//   - Keyword (K): the first word of an inbound message matches the keyword
//   - Schedule (S): fired by an external scheduler through Manager.Fire
//   - Inbound call (V): the voice layer asks which workflow answers a call
//   - Missed call (M): a call to the organization was missed
//   - Catch all (C): a message matched no keyword trigger
//   - Follow (F): a contact started following the organization
//
// Architecture Overview:
//
//	┌─────────────────┐
//	│     Manager     │ ← Create, archive, restore, import, dispatch
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐     ┌─────────────────┐
//	│   Dispatcher    │ ──▶ │     Matcher     │ ← Two-phase specificity search
//	└────────┬────────┘     └─────────────────┘
//	         │
//	┌────────▼────────┐
//	│ workflow.Engine │ ← Start requests, outside any transaction
//	└─────────────────┘
//
//	┌─────────────────┐     ┌─────────────────┐
//	│      Codec      │ ──▶ │    Enforcer     │ ← One active trigger per exclusive category
//	└─────────────────┘     └─────────────────┘
//
// Exclusivity:
//
// At most one active trigger may exist per keyword, and at most one
// missed-call and one catch-all trigger, in each organization. Restore and
// import enforce this under the organization lock. Plain creation does not:
// creating a second trigger for a keyword leaves both active, and the
// matcher then picks the lowest ID among equally specific candidates.
package triggers
