/*
Package reasoning adapts external LLM endpoints into the Service contract
the broker escalates to.

Two providers ship in-tree: an OpenAI-compatible chat completion client
(any server speaking that API works via OPENAI_BASE_URL) and a generic
JSON webhook for self-hosted services. Provider selection and credentials
come from the environment; FromEnv wires the configured one.

Both providers render the same prompt through BuildPrompt, carrying the
problem category, description, context, and the remedies already
attempted locally, and answer with a single proposed remedy. An empty or
malformed answer is reported as an ErrExternalService failure so the
broker's retry policy treats it the same way as a transport error.
*/
package reasoning
