// Package symtab holds the lookup tables the patch language resolves against:
// FFS file offsets keyed by GUID and symbol values keyed by module and name.
//
// Tables are filled from the reports EDK2's GenFv writes next to an FD
// (<FV>.inf, <FV>.Fv.txt, <FV>.Fv.map, Guid.xref) and the per-module link
// maps under Ffs/, from a YAML layout file, or by scanning the firmware
// volumes of the image itself. Once filled, a table is frozen and read-only.
package symtab
