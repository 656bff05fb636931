// Package nodestore provides a hierarchical content and metadata store with
// pluggable repository and blob storage backends.
//
// It exposes a single Service interface that orchestrates node creation,
// mutation, copy, cascading deletion, listing and smart folder evaluation.
// Implementations of repositories (memory, flat file, SQLite, Postgres,
// MongoDB, Neo4j) and blob stores (memory, filesystem, S3, age encryption)
// are provided under subpackages.
//
// Node Model
//
// A Node is a single struct whose mimetype selects the variant: folders,
// smart folders, meta nodes and file-like nodes. Folder membership is never
// stored; it is derived by filtering on the parent field. Custom properties
// live in a map keyed "aspectId:propName" and are checked against the
// schemas of the node's aspects by the Validator.
//
// Filters
//
// A filter expression is a disjunction of conjunctions of
// (field, operator, value) tuples. Matches and Evaluate define the canonical
// semantics; every NodeRepository must return what they would for the same
// data. The semantic operator is never evaluated locally: the service hands
// it to a SemanticSearcher and evaluators reject it with
// UnsupportedOperatorError.
package nodestore
