package sqlinline

const QListProviderConfigsByTool = `--sql 41ec543b-093b-4d70-abb4-ae0539b5262c
select id, tool_id, provider_type, endpoint, credential_ref, model, priority,
       is_default, is_active, timeout_seconds, retry_count, payload_keys, params,
       use_base64, health_status, last_health_check, created_at, updated_at
from provider_configs
where tool_id = $1::text
order by seq asc;
`

const QListProviderConfigs = `--sql 07826be3-ffcc-40d1-8e7f-d9fad5040df1
select id, tool_id, provider_type, endpoint, credential_ref, model, priority,
       is_default, is_active, timeout_seconds, retry_count, payload_keys, params,
       use_base64, health_status, last_health_check, created_at, updated_at
from provider_configs
order by tool_id asc, seq asc;
`

const QSelectProviderConfig = `--sql 3f452a30-72c0-402f-9254-fb7566b90710
select id, tool_id, provider_type, endpoint, credential_ref, model, priority,
       is_default, is_active, timeout_seconds, retry_count, payload_keys, params,
       use_base64, health_status, last_health_check, created_at, updated_at
from provider_configs
where id = $1::text;
`

const QInsertProviderConfig = `--sql 214f725a-3af4-4173-ae28-62cc368b5c7d
insert into provider_configs (id, tool_id, provider_type, endpoint, credential_ref, model, priority,
                              is_default, is_active, timeout_seconds, retry_count, payload_keys, params, use_base64)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::int,
        $8::boolean, $9::boolean, $10::int, $11::int, $12::jsonb, $13::jsonb, $14::boolean)
returning health_status, created_at, updated_at;
`

const QUpdateProviderConfig = `--sql 882f82c2-1127-4658-a5f4-d6e6758da618
update provider_configs
set tool_id = $2::text,
    provider_type = $3::text,
    endpoint = $4::text,
    credential_ref = $5::text,
    model = $6::text,
    priority = $7::int,
    is_default = $8::boolean,
    is_active = $9::boolean,
    timeout_seconds = $10::int,
    retry_count = $11::int,
    payload_keys = $12::jsonb,
    params = $13::jsonb,
    use_base64 = $14::boolean,
    updated_at = now()
where id = $1::text
returning updated_at;
`

const QDeleteProviderConfig = `--sql b82d8216-b904-4746-af8f-f83e0a1bd9bb
delete from provider_configs
where id = $1::text;
`

const QUpdateProviderHealth = `--sql 7642fd8f-4cec-403c-bf9a-a908d744ad72
update provider_configs
set health_status = $2::text,
    last_health_check = $3::timestamptz
where id = $1::text;
`
