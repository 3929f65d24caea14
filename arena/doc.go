package arena

/*

# Growable byte arena for relocatable node stores

An Arena owns one contiguous byte slice and hands out aligned regions of it
by offset. Callers never hold addresses, only offsets, so the backing slice
may be reallocated at any time without invalidating anything they hold.

## Zero padding

Allocate zeroes every byte between the previous logical end and the aligned
end of the new region. Nodes written into the arena therefore always carry
zero padding, even when the capacity was previously filled with garbage
(see Fill).

## Logical length

Used reports the logical end of the last allocation, not its aligned end.
The next allocation begins at the next alignment boundary.

*/
