package sqlinline

const QInsertJob = `--sql cd178a9c-07a8-42dd-b32a-2d3f10d39a27
insert into jobs (id, user_id, edit_id, tool_id, status, input_data, credits_charged)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::int)
returning created_at;
`

const QSelectJobByID = `--sql 2f8eedfa-0375-4d85-8c60-ba031af2afca
select id, user_id, edit_id, tool_id, status, input_data, output_data,
       error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
       started_at, completed_at, heartbeat_at, created_at
from jobs
where id = $1::text;
`

const QSelectJobStatus = `--sql 9f6169a4-5956-438c-8d62-18242eca8d29
select status
from jobs
where id = $1::text;
`

const QClaimJob = `--sql a1eb7351-5c03-4ce4-8a24-1f15cda1c7ae
with next_job as (
    select id
    from jobs
    where status in ('pending', 'queued')
    order by created_at asc
    for update skip locked
    limit 1
)
update jobs
set status = 'processing',
    started_at = now(),
    heartbeat_at = now(),
    completed_at = null
where id in (select id from next_job)
returning id, user_id, edit_id, tool_id, status, input_data, output_data,
          error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
          started_at, completed_at, heartbeat_at, created_at;
`

const QHeartbeatJobs = `--sql 8467b470-03f1-46a3-b34a-bfc1cef2605a
update jobs
set heartbeat_at = now()
where id = any($1::text[])
  and status = 'processing';
`

const QFinishJob = `--sql 7f1f9586-cc4b-437a-aa5f-0f1cad6f0b65
update jobs
set status = $2::text,
    output_data = $3::jsonb,
    error_message = $4::text,
    error_code = $5::text,
    provider_id = $6::text,
    processing_time_ms = $7::bigint,
    completed_at = now()
where id = $1::text
  and status = 'processing'
returning id, user_id, edit_id, tool_id, status, input_data, output_data,
          error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
          started_at, completed_at, heartbeat_at, created_at;
`

const QCancelJob = `--sql 1b33eba9-0a19-4748-8fc9-6a8282079313
update jobs
set status = 'cancelled',
    error_message = 'cancelled by operator',
    error_code = 'cancelled',
    completed_at = now()
where id = $1::text
  and status = any($2::text[])
returning id, user_id, edit_id, tool_id, status, input_data, output_data,
          error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
          started_at, completed_at, heartbeat_at, created_at;
`

const QRetryJob = `--sql 2dcf2ae7-6b5a-4dcb-a005-b8663a7e8282
update jobs
set status = 'queued',
    error_message = '',
    error_code = '',
    started_at = null,
    completed_at = null,
    attempt = attempt + 1
where id = $1::text
  and status = 'failed'
returning id, user_id, edit_id, tool_id, status, input_data, output_data,
          error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
          started_at, completed_at, heartbeat_at, created_at;
`

const QRequeueOrphanedJobs = `--sql 88e2b797-1966-4649-8575-9bfa98d2d812
update jobs
set status = 'queued',
    started_at = null,
    heartbeat_at = null
where status = 'processing'
  and coalesce(heartbeat_at, started_at, created_at) < now() - make_interval(secs => $1::double precision)
returning id, user_id, edit_id, tool_id, status, input_data, output_data,
          error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
          started_at, completed_at, heartbeat_at, created_at;
`

const QListJobs = `--sql fd1131b5-892c-41e4-a769-880377887863
select id, user_id, edit_id, tool_id, status, input_data, output_data,
       error_message, error_code, provider_id, processing_time_ms, credits_charged, attempt,
       started_at, completed_at, heartbeat_at, created_at
from jobs
where ($1::text = '' or status = $1::text)
order by created_at desc
limit $2::int;
`

const QJobStats = `--sql 3f9cb643-11c1-4ad3-a1d1-64b6f35bccec
select status,
       count(*) as total,
       coalesce(avg(processing_time_ms) filter (where status = 'done'), 0)::double precision as avg_ms
from jobs
group by status
order by status;
`

const QNotifyJobs = `--sql 7c43b5db-b9cf-488b-9fba-80eb0e0f68ca
select pg_notify($1::text, $2::text);
`
