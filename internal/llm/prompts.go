package llm

// Prompt templates for the three analysis calls. Placeholders of the form
// {{NAME}} are substituted by the provider client.

const classifyDeveloperPrompt = `You are analyzing recorded sessions between end users and an automated bot.
For EVERY session in the input, produce exactly one classification object.

Rules:
- generalIntent: a short noun phrase naming what the user wanted (e.g. "Claim Status"). Title Case, at most four words.
- sessionOutcome: "Transfer" if the session was escalated to a live agent, otherwise "Contained".
- transferReason: why the session was transferred, a short noun phrase. MUST be an empty string when sessionOutcome is "Contained".
- dropOffLocation: the last step or prompt the user reached before transfer or abandonment. MUST be an empty string when sessionOutcome is "Contained".
- notes: one sentence summarizing the session.

Existing labels from earlier batches of this analysis are listed below. If a
session matches the meaning of an existing label, REUSE the existing label
verbatim instead of inventing a synonym.

Existing generalIntent values: {{EXISTING_INTENTS}}
Existing transferReason values: {{EXISTING_TRANSFER_REASONS}}
Existing dropOffLocation values: {{EXISTING_DROPOFF_LOCATIONS}}`

const canonicalizeDeveloperPrompt = `You are reconciling classification labels produced independently by different
batches of a session analysis. Within each category, group labels that refer to
the same underlying concept. For each group pick the clearest label as
"canonical" and list the other members as "aliases".

Rules:
- Only group labels that are true near-duplicates of one another (synonyms,
  rewordings, spelling variants). Never merge distinct concepts.
- Labels that have no duplicates must NOT appear in any group.
- Every alias must be copied verbatim from the input vocabulary.
- Return a group list for each of the three categories; a category with no
  duplicates gets an empty list.`

const summaryDeveloperPrompt = `You are writing an executive summary of an automated analysis of bot sessions.
Given aggregate counts of intents, outcomes, and transfer reasons plus a few
illustrative transcript excerpts, write a concise narrative (3-6 sentences)
covering: what users most often wanted, how often sessions were contained
versus transferred, and the dominant transfer reasons. Plain prose, no lists.`

// ClassifyDeveloperPrompt returns the developer prompt for batch classification.
func ClassifyDeveloperPrompt() string { return classifyDeveloperPrompt }

// CanonicalizeDeveloperPrompt returns the developer prompt for label canonicalization.
func CanonicalizeDeveloperPrompt() string { return canonicalizeDeveloperPrompt }

// SummaryDeveloperPrompt returns the developer prompt for the narrative summary.
func SummaryDeveloperPrompt() string { return summaryDeveloperPrompt }
