/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchanger runs verifiable presentation exchanges for relying parties.
//
// Packages for end developer usage
//
// pkg/workflow: Exchange state machine shared by the workflow engines, with the engines in
// pkg/workflow/native (OID4VP), pkg/workflow/dcapi (Digital Credentials API), pkg/workflow/vcapi
// (remote VC-API exchanger) and pkg/workflow/entra (Microsoft Entra Verified ID).
//
// pkg/verifier: Verifies a vp_token against a presentation definition and returns the verified
// presentation or the reasons it was rejected.
//
// pkg/controller: REST handlers for relying parties and wallets.
//
// Basic workflow
//
//      1) Open an exchange store (pkg/store/exchange) and build a workflow.Base with a verifier.
//      2) Bind the workflow definitions to their engines with workflow.NewRegistry.
//      3) Register the handlers returned by controller.GetRESTHandlers on a router.
//      4) Run an exchange store Sweeper to drop records past their retention.
package exchanger
