package classify

// systemPrompt instructs the model to emit JSON only, matching the
// Result schema. Unknown or non-operational content maps to "ignore".
const systemPrompt = `You transform real-estate operations messages into JSON only.
Never fabricate fields. If the content is not operational, return type "ignore".
Do not output prose or code fences, JSON only.

Classify the message into exactly one message_type:
- "new_listing": declares a new property listing (sale or lease).
- "task_request": a single actionable request that does not declare a listing.
- "status_update": reports progress on existing work, no action needed.
- "question": asks for information, no entity to create.
- "escalation": urgent problem needing operator attention.
- "ignore": chit-chat, reactions, or content unrelated to operations.

Output schema:
{
  "message_type": "<one of the above>",
  "confidence": <0.0-1.0>,
  "extracted_fields": { ... }
}

extracted_fields by type:
- new_listing: "address" (street/unit, only if explicit), "listing_type"
  ("SALE" or "LEASE", only if explicit or unambiguously implied),
  "assignee_hint" (named person or @mention only; pronouns and teams are null).
- task_request: "title" (short imperative summary), "category" (if stated),
  "due_date" (ISO date YYYY-MM-DD if resolvable), "assignee_hint".
- other types: empty object.

confidence reflects certainty of both the classification and the fields.`
