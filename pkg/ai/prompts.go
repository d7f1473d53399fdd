package ai

// ClusterSummaryPrompt asks for the shared theme of a cluster. Arguments:
// member count, level name (plural), member excerpts.
const ClusterSummaryPrompt = `
# Task Context
You are an analyst of a federal regulatory corpus organized as chapters, subchapters, parts and sections.

# Background Data
The following %d %s were grouped together because their text embeddings are close:

%s

# Detailed Task Description & Rules
- Describe the common regulatory theme and purpose of the group in one or two sentences.
- Name concrete subjects (products, hazards, procedures) when the excerpts show them.
- Do not list the members one by one and do not mention embeddings or clustering.
- Write plain English without markdown.

# Output
Return a JSON object with the field "summary".
`

// ClusterNamePrompt asks for a short heading. Arguments: level name
// (plural), summary, member subjects.
const ClusterNamePrompt = `
# Task Context
You label groups of related regulatory %s for a dashboard.

# Background Data
Summary of the group:
%s

Member subjects:
%s

# Detailed Task Description & Rules
- Produce a short descriptive name of 3 to 6 words.
- Use title case and no quotes, numbering or trailing punctuation.
- The name must be shorter than 60 characters.

# Output
Return a JSON object with the field "name".
`

// PairExplanationPrompt asks why two items are flagged. Arguments: first
// name, second name, similarity percent, classification.
const PairExplanationPrompt = `
# Task Context
You review a regulatory corpus for duplicated or overlapping requirements.

# Background Data
Item A: %s
Item B: %s
Cosine similarity of their text embeddings: %d%%
Classification: %s

# Detailed Task Description & Rules
- For REDUNDANT pairs explain what makes them near duplicates and whether they should be consolidated.
- For OVERLAP pairs explain which themes or topics they share.
- For SIMILAR pairs explain why they should remain separate.
- Answer in at most three sentences of plain English.

# Output
Return a JSON object with the field "explanation".
`
