/*
Package types provides the core interfaces, data structures, and type definitions for the image gateway.

This package is the foundation of the gateway: it defines the contracts between the router,
the provider adapters, the cache and quota managers, and the storage service, along with the
two persisted row types (ImageMetadata and ProviderQuota).

# Architecture Overview

The gateway is layered, with this package at the bottom:

	┌─────────────────────────────────────────────┐
	│             Storage Service                 │
	│        (upload orchestration)               │
	└─────────────────────────────────────────────┘
	        │               │              │
	┌───────────────┐ ┌───────────┐ ┌─────────────┐
	│    Router     │ │   Cache   │ │    Quota    │
	│  (decisions)  │ │  Manager  │ │   Manager   │
	└───────────────┘ └───────────┘ └─────────────┘
	        │               │              │
	┌───────────────┐ ┌──────────────────────────┐
	│   Provider    │ │      MetadataStore /     │
	│   Adapters    │ │        QuotaStore        │
	│   (×4)        │ │       (PostgreSQL)       │
	└───────────────┘ └──────────────────────────┘

# Key Interfaces

  - ProviderAdapter: the closed contract the four blob backends implement
  - MetadataStore: persistent image catalog consumed by the cache manager
  - QuotaStore: persistent usage accounting consumed by the quota manager

Every backend is a named member of the Backend enum; there is no open
registration. The router and service never depend on a concrete adapter.
*/
package types
