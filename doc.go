/*
Package custos defines the common vocabulary shared by all custos
subpackages: second precision time types, context helpers carrying the
clock and the logger, the ledger capability interface and the calldata
word codec used to talk to a custodian contract.

The heavy lifting happens in the subpackages. registry knows which
administrative operations a custodian contract supports and which role
each phase requires. flow drives the request/approve/cancel lifecycle
against the ledger. metatx signs bounded authorizations off the
execution path and broadcasts them later. txstore keeps signed but not
yet broadcast transactions on disk. safe bridges an external k-of-n
wallet into the same pipeline.
*/
package custos
