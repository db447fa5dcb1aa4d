package mcpserver

// MappingFormatContract describes how source rows are mapped to records.
// LLM consumers should follow it when proposing a mapping section.
const MappingFormatContract = `# Mapping Format Contract

Each content kind has one mapping entry under the ` + "`" + `mapping` + "`" + ` section of the
config file. The source query for the kind lives under ` + "`" + `source.queries` + "`" + `.

## Structure

` + "```" + `yaml
source:
  driver: mysql                      # postgres | mysql | sqlite3
  dsn: ${EXTDB_DSN}
  queries:
    post: SELECT id, headline, text, cats, image_id, url FROM news

mapping:
  post:
    external_id: id                  # REQUIRED, column holding the stable source id
    fields:                          # record field -> column
      title: headline
      body: text
    terms:
      - taxonomy: category
        column: cats
        separator: ","               # OPTIONAL, default ","
    meta:
      - key: _thumbnail_id           # may name another record of the same batch
        column: image_id
    redirect_source: url             # OPTIONAL, legacy URL of the row
    date_layout: "2006-01-02 15:04:05"
    clean_html: true                 # strip script/style blocks and style attributes
    wrap_paragraphs: false           # wrap plain text blocks in paragraph markup
` + "```" + `

## Rules

1. **Field names** are one of: title, body, excerpt, status, slug, date, date_gmt,
   parent, menu_order, password, author, comment_status, guid.
2. **Every row must carry the external_id column.** A query without it aborts the run.
3. **Records without a title, body and excerpt are rejected** by the content store.
4. **Same title, same kind** means the record is matched to the existing item and
   nothing new is created.
5. **Meta values referencing other records** (` + "`" + `_thumbnail_id` + "`" + `) are resolved after
   all records of the batch were processed.
6. **Images and linked documents** in the body are sideloaded unless hosted on the
   configured local domain.
`
