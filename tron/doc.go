package tron

/*

# TRON documents: JSON shaped data in one relocatable arena

A Document stores objects, arrays and scalars (null, bool, int64, float64,
string, bytes) inside a single growable byte arena. The arena can be written
out as-is, behind a small fixed header, and loaded again without a decode
pass.

## Handles

Containers are addressed by Handle, a byte offset into the arena. The root
container always lives at offset 0 (Root). Handles survive buffer growth and
persistence because nothing in the arena stores an address, only offsets.

## Layout (high level)

Every node starts on a NodeAlignment boundary. Padding between a node's
logical end and the next boundary is always zero.

- object header: tag, count, bucket count, bucket table offset, first and
  last member (insertion order)
- member node: tag, chain next, djb2 key hash, key length, insertion order
  prev/next, 8 byte payload, key bytes + NUL, inline string/bytes value
- array header: tag, length, capacity, slot table offset
- slot: tag, aux length, 8 byte payload

Object members hang off hash buckets in singly linked chains and are also
threaded onto a doubly linked insertion order list, so iteration, JSON
output and deletion never reorder the surviving members. The bucket table
doubles once the member count exceeds the bucket count.

## Garbage

Overwrites that do not fit in place and deletions leave the old bytes
unreachable. Nothing is reclaimed; rewriting into a fresh Document (for
example via JSON) compacts.

## Concurrency

A Document is not safe for concurrent use. Slices returned by Bytes are
invalidated by any subsequent mutation.

*/
