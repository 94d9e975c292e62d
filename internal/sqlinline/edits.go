package sqlinline

const QInsertEdit = `--sql 36db873f-cd03-47a6-aabf-b1bf642b5213
insert into edits (id, user_id, image_id, tool_type, mask_url, prompt, status)
values ($1::text, $2::text, nullif($3::text, ''), $4::text, $5::text, $6::text, $7::text)
returning created_at, updated_at;
`

const QSelectEditByID = `--sql 8dc3c010-1b17-49bb-9cf9-4defb8a84d56
select e.id, e.user_id, coalesce(e.image_id, ''), coalesce(i.url, ''), e.tool_type, e.mask_url, e.prompt,
       e.status, e.result_url, e.error, e.error_code, e.created_at, e.updated_at
from edits e
left join images i on i.id = e.image_id
where e.id = $1::text;
`

const QUpdateEditStatus = `--sql 23c73871-bc53-41d2-87fd-8e69a3cb0185
update edits
set status = $2::text, updated_at = now()
where id = $1::text;
`

const QCompleteEdit = `--sql 85006f0c-d7c6-42b0-8c89-069f0a90d080
update edits
set status = 'completed',
    result_url = $2::text,
    error = '',
    error_code = '',
    updated_at = now()
where id = $1::text;
`

const QFailEdit = `--sql 1f07ff29-901c-42dc-bc11-16ae5221b314
update edits
set status = 'failed',
    error = $2::text,
    error_code = $3::text,
    updated_at = now()
where id = $1::text;
`

// QClaimEditForProcessing returns no row when the edit is already processing
// or completed, or when an earlier job for it has not finished. The row lock
// serializes concurrent triggers of the same edit.
const QClaimEditForProcessing = `--sql a39de585-4270-4e59-a105-8cf1e556ff3d
update edits e
set status = 'processing',
    error = '',
    error_code = '',
    updated_at = now()
where e.id = $1::text
  and e.status in ('pending', 'failed')
  and not exists (
      select 1
      from jobs j
      where j.edit_id = e.id
        and j.status in ('pending', 'queued', 'processing')
  )
returning e.id;
`
