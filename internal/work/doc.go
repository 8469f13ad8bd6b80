// Package work models mutation intents for the search indexes.
//
// An Item is one immutable intent (add, update, delete, purge, purge-all or
// optimize) against one entity type. Items produced by one unit of work for
// one index are collected, in submission order, into a Queue which is sealed
// before it is handed to a backend. Sealing coalesces redundant items but
// never reorders the survivors.
//
// Queues are serialized with Encode/Decode when they have to cross a process
// boundary; the encoding preserves kind, entity type, identifier, fields,
// originating work id and order exactly.
package work
