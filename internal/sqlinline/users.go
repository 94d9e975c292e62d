package sqlinline

const QEnsureUser = `--sql a2118c22-8970-4dbc-9729-2d21f911a3c5
insert into users (id, email)
values ($1::text, $2::text)
on conflict (id) do nothing;
`

const QSelectUserByID = `--sql 13306938-6916-49b4-9d8e-f3b2d677e60a
select id, email, plan, credits, created_at
from users
where id = $1::text;
`

const QSetUserPlan = `--sql 53072c5a-ba48-4939-bab1-f6c7ab800646
update users
set plan = $2::text
where id = $1::text;
`
