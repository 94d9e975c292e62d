package sqlinline

const QSelectIntegrationToken = `--sql 30c9adff-7a90-4b46-9424-06c04bbc2df3
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 32478376-3c57-42cb-8c51-12929de8bde9
insert into integration_tokens (provider, token, properties, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
